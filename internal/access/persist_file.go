package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// document is the on-disk JSON shape of the access-control state. The field
// names are part of the durable contract and must not change.
type document struct {
	UserIDs  []string      `json:"userIds"`
	GroupIDs []string      `json:"groupIds"`
	BotOwner documentOwner `json:"botOwner"`
}

type documentOwner struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func documentFromState(state State) document {
	return document{
		UserIDs:  state.UserIDs(),
		GroupIDs: state.GroupIDs(),
		BotOwner: documentOwner{
			Name: state.OwnerName,
			ID:   state.OwnerID,
		},
	}
}

func (d document) toState() State {
	return NewState(d.BotOwner.ID, d.BotOwner.Name, d.UserIDs, d.GroupIDs)
}

// FilePersister stores the access-control state as a single JSON document,
// rewritten in full on every persist. Writes go through a temp file and rename
// so a crash mid-write cannot truncate the document.
type FilePersister struct {
	path string
}

// NewFilePersister constructs a FilePersister for the given path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Persist writes the full state to the configured path.
func (p *FilePersister) Persist(ctx context.Context, state State) error {
	if p == nil || p.path == "" {
		return errors.New("file persister is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(documentFromState(state), "", "    ")
	if err != nil {
		return fmt.Errorf("encode access document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp access document: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write access document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close access document: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace access document: %w", err)
	}

	return nil
}

// Load reads and decodes the document at the configured path.
func (p *FilePersister) Load(ctx context.Context) (State, error) {
	if p == nil || p.path == "" {
		return State{}, errors.New("file persister is not initialized")
	}
	if ctx == nil {
		return State{}, errors.New("context is required")
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return State{}, fmt.Errorf("read access document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("decode access document: %w", err)
	}

	if doc.BotOwner.ID == "" {
		return State{}, errors.New("access document has no owner id")
	}

	return doc.toState(), nil
}

// Ping verifies the document is still readable, for health reporting.
func (p *FilePersister) Ping(ctx context.Context) error {
	if p == nil || p.path == "" {
		return errors.New("file persister is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("stat access document: %w", err)
	}

	return nil
}
