package monitor

// Typed snapshots per platform. Counters and flags are pointers so a field
// missing from an older stored snapshot reads as "no prior data" instead of
// a zero that would fire a bogus change event.

type InstagramSnapshot struct {
	Followers  *int   `json:"followers"`
	Followings *int   `json:"followings"`
	Posts      *int   `json:"posts"`
	Bio        string `json:"bio"`
	IsPrivate  *bool  `json:"is_private"`
	FullName   string `json:"full_name"`
}

// ProfileRef is one entry of a follower/following list, diffed by URI.
type ProfileRef struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// PlaylistRef is one public playlist; diffed by URI as well.
type PlaylistRef struct {
	Name      string `json:"name"`
	URI       string `json:"uri"`
	Followers int    `json:"followers"`
}

type SpotifySnapshot struct {
	DisplayName string `json:"display_name"`
	Followers   *int   `json:"followers"`
	Followings  *int   `json:"followings"`
	ImageURL    string `json:"image_url"`

	// nil means the sub-fetch failed this cycle; the diff skips the list
	// rather than reporting everyone as removed.
	FollowerList  []ProfileRef  `json:"follower_list"`
	FollowingList []ProfileRef  `json:"following_list"`
	Playlists     []PlaylistRef `json:"playlists"`
}

type PinterestUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Followers   *int   `json:"followers"`
	Pins        *int   `json:"pins"`
}

// PinterestBoardInfo is a board as scraped from the profile page, before
// reconciliation against the stored board rows.
type PinterestBoardInfo struct {
	URL         string  `json:"url"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Username    string  `json:"username"`
	PinCount    int     `json:"pin_count"`
}

type PinterestSnapshot struct {
	User   *PinterestUser       `json:"user"`
	Boards []PinterestBoardInfo `json:"boards"`
}
