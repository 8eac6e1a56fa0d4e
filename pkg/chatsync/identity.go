package chatsync

import (
	"encoding/json"
	"os"
)

// Identity is the acting user: who they are, which role they hold, and the
// bearer token every chat request carries.
type Identity struct {
	UserID      string
	Role        Role
	DisplayName string
	Token       string
}

// Resolver yields the acting identity, or (nil, nil) when it has none.
// Resolvers are composed with Chain in a fixed precedence order; the chat
// session runs read-only when nothing resolves.
type Resolver interface {
	Resolve() (*Identity, error)
}

// Chain tries each resolver in order and returns the first identity found.
// A resolver that fails (a corrupt session blob, say) is skipped so the
// ones behind it still get tried; the first failure is reported only when
// nothing in the chain resolves.
type Chain []Resolver

func (c Chain) Resolve() (*Identity, error) {
	var firstErr error
	for _, r := range c {
		id, err := r.Resolve()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if id != nil {
			return id, nil
		}
	}
	return nil, firstErr
}

// Static always resolves to a fixed identity.
type Static Identity

func (s Static) Resolve() (*Identity, error) {
	id := Identity(s)
	return &id, nil
}

// FileSession reads a persisted session blob from disk, the way the portal
// front ends fall back to their stored session when no live auth context is
// around. A missing file is not an error, just "no session".
type FileSession struct {
	Path string
	Role Role
}

type sessionBlob struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

func (f FileSession) Resolve() (*Identity, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var blob sessionBlob
	if err := json.Unmarshal(b, &blob); err != nil {
		return nil, err
	}
	if blob.Token == "" {
		return nil, nil
	}
	return &Identity{
		UserID:      blob.UserID,
		Role:        f.Role,
		DisplayName: blob.Name,
		Token:       blob.Token,
	}, nil
}
