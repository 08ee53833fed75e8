package sealclient

import (
	"context"
	"errors"
	"sync"

	"sealedmsg/internal/content"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/poll"
)

// ViewCallbacks receive the results of a MessageView's background work.
// Callbacks run on the view's goroutines and must not call Close.
type ViewCallbacks struct {
	OnUnlocked func(domain.Metadata)
	OnPreview  func(domain.PreviewRecord)
	OnRead     func(content.Payload)
	OnError    func(error)
}

// MessageView follows one message for as long as it is open: it waits for
// the unlock and polls for a preview. Once Close returns no callback runs
// and no abandoned read latches the message.
type MessageView struct {
	id     uint64
	r      *Receiver
	cb     ViewCallbacks
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	alive bool
	wg    sync.WaitGroup
}

// Open starts following id. The view lives until Close or until parent is
// done.
func (r *Receiver) Open(parent context.Context, id uint64, cb ViewCallbacks) *MessageView {
	ctx, cancel := context.WithCancel(parent)
	v := &MessageView{id: id, r: r, cb: cb, ctx: ctx, cancel: cancel, alive: true}

	v.spawn(func() {
		md, err := r.WaitUnlocked(ctx, id)
		if err != nil {
			v.fail(err)
			return
		}
		v.deliver(func() {
			if cb.OnUnlocked != nil {
				cb.OnUnlocked(md)
			}
		})
	})
	if r.previews != nil {
		v.spawn(func() {
			out, err := r.previews.Watch(ctx, id, func(rec domain.PreviewRecord) {
				v.deliver(func() {
					if cb.OnPreview != nil {
						cb.OnPreview(rec)
					}
				})
			})
			if out == poll.GaveUp && err != nil {
				v.fail(err)
			}
		})
	}
	return v
}

// Read decrypts the message in the background and reports through OnRead or
// OnError.
func (v *MessageView) Read() {
	v.spawn(func() {
		p, err := v.r.Read(v.ctx, v.id)
		if err != nil {
			v.fail(err)
			return
		}
		v.deliver(func() {
			if v.cb.OnRead != nil {
				v.cb.OnRead(p)
			}
		})
	})
}

func (v *MessageView) Alive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alive
}

// Close abandons in-flight work and waits for the view's goroutines to
// finish.
func (v *MessageView) Close() {
	v.mu.Lock()
	v.alive = false
	v.mu.Unlock()
	v.cancel()
	v.wg.Wait()
}

func (v *MessageView) spawn(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.alive {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn()
	}()
}

func (v *MessageView) deliver(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.alive || v.ctx.Err() != nil {
		return
	}
	fn()
}

func (v *MessageView) fail(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	v.deliver(func() {
		if v.cb.OnError != nil {
			v.cb.OnError(err)
		}
	})
}
