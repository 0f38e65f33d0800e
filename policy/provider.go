package policy

import (
	"sync"

	"github.com/drpcorg/roomsync/utils"
)

// Provider hands out the policy to use for the next call. The store calls
// Reload before every dispatch; a failed reload leaves Current unchanged.
type Provider[S any] interface {
	Current() Policy[S]
	Reload() error
}

type static[S any] struct {
	p Policy[S]
}

// Static never reloads.
func Static[S any](p Policy[S]) Provider[S] {
	return static[S]{p: p}
}

func (s static[S]) Current() Policy[S] {
	return s.p
}

func (s static[S]) Reload() error {
	return nil
}

type LoadFunc[S any] func() (Policy[S], error)

// Reloadable rebuilds its policy with load on every Reload. A failure is
// logged once per distinct error and the previous policy is kept.
type Reloadable[S any] struct {
	mu      sync.Mutex
	log     utils.Logger
	load    LoadFunc[S]
	current Policy[S]
	prevErr string
}

// NewReloadable requires the first load to succeed.
func NewReloadable[S any](log utils.Logger, load LoadFunc[S]) (*Reloadable[S], error) {
	p, err := load()
	if err != nil {
		return nil, err
	}
	return &Reloadable[S]{log: log, load: load, current: p}, nil
}

func (r *Reloadable[S]) Current() Policy[S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Reloadable[S]) Reload() error {
	p, err := r.load()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if msg := err.Error(); msg != r.prevErr {
			r.log.Error("policy: reload failed, keeping previous", "err", err)
			r.prevErr = msg
		}
		return err
	}
	if r.prevErr != "" {
		r.log.Info("policy: reloaded")
		r.prevErr = ""
	}
	r.current = p
	return nil
}
