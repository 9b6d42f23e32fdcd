package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Sha-Dox/coral/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedEvent struct {
	AccountID int64
	Type      string
	Summary   string
	Payload   any
}

type recordedNotification struct {
	Platform models.Platform
	Username string
	Type     string
	Summary  string
}

type fakeStore struct {
	events    []recordedEvent
	snapshots map[int64]json.RawMessage
	errors    map[int64]string
	settings  map[string]string
	boards    []models.PinterestBoard
	nextID    int64

	txDepth  int
	failTx   bool
	txCalled bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: map[int64]json.RawMessage{},
		errors:    map[int64]string{},
		settings:  map[string]string{},
	}
}

func (f *fakeStore) RecordCheckSuccess(ctx context.Context, accountID int64, snapshot json.RawMessage) error {
	f.snapshots[accountID] = snapshot
	delete(f.errors, accountID)
	return nil
}

func (f *fakeStore) RecordCheckError(ctx context.Context, accountID int64, msg string) error {
	f.errors[accountID] = msg
	return nil
}

func (f *fakeStore) AddEvent(ctx context.Context, accountID int64, eventType, summary string, payload any) (int64, error) {
	f.nextID++
	f.events = append(f.events, recordedEvent{AccountID: accountID, Type: eventType, Summary: summary, Payload: payload})
	return f.nextID, nil
}

func (f *fakeStore) GetPinterestBoards(ctx context.Context, accountID int64) ([]models.PinterestBoard, error) {
	var out []models.PinterestBoard
	for _, b := range f.boards {
		if b.AccountID == accountID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) AddPinterestBoard(ctx context.Context, accountID int64, url, name string, pinCount int, description *string) (int64, error) {
	f.nextID++
	f.boards = append(f.boards, models.PinterestBoard{
		ID: f.nextID, AccountID: accountID, URL: url, Name: name,
		Description: description, CurrentPinCount: pinCount,
	})
	return f.nextID, nil
}

func (f *fakeStore) UpdatePinterestBoard(ctx context.Context, boardID int64, pinCount int, name string, description *string) error {
	for i := range f.boards {
		if f.boards[i].ID == boardID {
			f.boards[i].CurrentPinCount = pinCount
			if name != "" {
				f.boards[i].Name = name
			}
			if description != nil {
				f.boards[i].Description = description
			}
			return nil
		}
	}
	return fmt.Errorf("board_not_found")
}

func (f *fakeStore) GetSetting(ctx context.Context, key, def string) (string, error) {
	if v, ok := f.settings[key]; ok {
		return v, nil
	}
	return def, nil
}

func (f *fakeStore) SetSetting(ctx context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txCalled = true
	if f.failTx {
		return fmt.Errorf("tx_failed")
	}
	f.txDepth++
	defer func() { f.txDepth-- }()
	return fn(ctx)
}

type fakeNotifier struct {
	sent []recordedNotification
}

func (f *fakeNotifier) Notify(ctx context.Context, platform models.Platform, username, eventType, summary string) {
	f.sent = append(f.sent, recordedNotification{Platform: platform, Username: username, Type: eventType, Summary: summary})
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
