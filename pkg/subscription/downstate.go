package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// downRecord captures an outage in progress for one resource.
type downRecord struct {
	Resource       string    `json:"resource"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	DownEventID    string    `json:"down_event_id"`
	Since          time.Time `json:"since"`
}

// downState persists outages to a small JSON file so a restart during an
// outage still produces exactly one recovery alert when the subscription
// comes back.
type downState struct {
	path    string
	records map[string]downRecord // keyed by resource
}

func loadDownState(path string) (*downState, error) {
	s := &downState{path: path, records: map[string]downRecord{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading down-state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		// A corrupt marker file must not block startup; treat as no outage.
		s.records = map[string]downRecord{}
	}
	return s, nil
}

func (s *downState) get(resource string) (downRecord, bool) {
	r, ok := s.records[resource]
	return r, ok
}

func (s *downState) set(r downRecord) error {
	s.records[r.Resource] = r
	return s.save()
}

func (s *downState) clear(resource string) error {
	delete(s.records, resource)
	return s.save()
}

func (s *downState) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating down-state dir: %w", err)
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding down state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing down state: %w", err)
	}
	return os.Rename(tmp, s.path)
}
