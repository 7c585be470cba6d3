package state

import "github.com/libp2p/go-libp2p/core/peer"

// UsernameResolver issues an asynchronous username lookup.
type UsernameResolver interface {
	GetUsername(id peer.ID) error
}

// UpdateUsernames brings the username map in line with the peer list. It
// prunes usernames of departed peers when there are too many, and requests
// lookups for peers without one otherwise. Concurrent calls return
// immediately without doing anything.
func (d *Directory) UpdateUsernames(resolver UsernameResolver) error {
	if !d.reconciling.CompareAndSwap(false, true) {
		return nil
	}
	defer d.reconciling.Store(false)

	missing := d.planReconcile()

	for _, id := range missing {
		if err := resolver.GetUsername(id); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) planReconcile() []peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	known := len(d.usernames)
	expected := len(d.peers) - len(d.awaiting)

	switch {
	case known > expected:
		present := make(map[peer.ID]struct{}, len(d.peers))
		for _, id := range d.peers {
			present[id] = struct{}{}
		}
		for id := range d.usernames {
			if _, ok := present[id]; !ok {
				delete(d.usernames, id)
			}
		}
		return nil
	case known < expected, len(d.awaiting) > 0:
		var missing []peer.ID
		for _, id := range d.peers {
			if _, ok := d.usernames[id]; !ok {
				missing = append(missing, id)
			}
		}
		return missing
	default:
		return nil
	}
}

// Reconciling reports whether an UpdateUsernames pass is in progress.
func (d *Directory) Reconciling() bool {
	return d.reconciling.Load()
}
