// Package local holds client-side state: a persistent file that survives
// restarts and an in-memory store that lives as long as the process.
package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Identity is who the local user is signed in as.
type Identity struct {
	ActorID   string `toml:"actor_id"`
	ActorKind string `toml:"actor_kind"`
	OrgID     string `toml:"org_id"`
	Name      string `toml:"name"`
}

// Empty reports whether no identity is stored.
func (i Identity) Empty() bool { return i.ActorID == "" }

type persistentFile struct {
	Identity Identity          `toml:"identity"`
	Drafts   map[string]string `toml:"drafts"`
}

// Persistent is a small key/value file: the remembered identity and the
// unsent draft of each conversation. Every mutation is written through.
type Persistent struct {
	path string

	mu   sync.Mutex
	data persistentFile
}

// OpenPersistent loads the file at path, starting empty if it does not exist.
func OpenPersistent(path string) (*Persistent, error) {
	p := &Persistent{path: path, data: persistentFile{Drafts: map[string]string{}}}
	if _, err := toml.DecodeFile(path, &p.data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	if p.data.Drafts == nil {
		p.data.Drafts = map[string]string{}
	}
	return p, nil
}

// Identity returns the remembered identity.
func (p *Persistent) Identity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Identity
}

// SetIdentity remembers id.
func (p *Persistent) SetIdentity(id Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.Identity = id
	return p.saveLocked()
}

// ClearIdentity forgets the identity and every draft.
func (p *Persistent) ClearIdentity() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = persistentFile{Drafts: map[string]string{}}
	return p.saveLocked()
}

// Draft returns the unsent text for a conversation.
func (p *Persistent) Draft(conversationID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Drafts[conversationID]
}

// SetDraft stores the unsent text for a conversation; empty text removes it.
func (p *Persistent) SetDraft(conversationID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == "" {
		if _, ok := p.data.Drafts[conversationID]; !ok {
			return nil
		}
		delete(p.data.Drafts, conversationID)
	} else {
		if p.data.Drafts[conversationID] == text {
			return nil
		}
		p.data.Drafts[conversationID] = text
	}
	return p.saveLocked()
}

// saveLocked writes to a temp file and renames it over the old one.
func (p *Persistent) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(p.data)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write state: %w", encErr)
	}
	return os.Rename(tmp, p.path)
}
