// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"

	"github.com/grailbio/base/errors"
)

// group is the shared state of an in-process communicator. Each
// rank owns one inbox per collective; payloads are copied on send
// so ranks never share buffers.
type group struct {
	size  int
	bcast []chan []byte
	gathr []chan rankData
}

type rankData struct {
	rank int
	data []byte
}

type member struct {
	g    *group
	rank int
}

// NewGroup returns the endpoints of an in-process communicator of n
// ranks. Each endpoint must be used by exactly one goroutine.
func NewGroup(n int) []Comm {
	g := &group{
		size:  n,
		bcast: make([]chan []byte, n),
		gathr: make([]chan rankData, n),
	}
	for i := 0; i < n; i++ {
		g.bcast[i] = make(chan []byte, n)
		g.gathr[i] = make(chan rankData, n)
	}
	comms := make([]Comm, n)
	for i := 0; i < n; i++ {
		comms[i] = &member{g: g, rank: i}
	}
	return comms
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.g.size }

func (m *member) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if root < 0 || root >= m.g.size {
		return nil, errors.E(errors.Invalid, "comm: invalid root rank")
	}
	if m.rank == root {
		for i := 0; i < m.g.size; i++ {
			if i == root {
				continue
			}
			payload := append([]byte(nil), data...)
			select {
			case m.g.bcast[i] <- payload:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return data, nil
	}
	select {
	case payload := <-m.g.bcast[m.rank]:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *member) Gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	if root < 0 || root >= m.g.size {
		return nil, errors.E(errors.Invalid, "comm: invalid root rank")
	}
	if m.rank != root {
		payload := append([]byte(nil), data...)
		select {
		case m.g.gathr[root] <- rankData{m.rank, payload}:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]byte, m.g.size)
	out[root] = data
	for i := 1; i < m.g.size; i++ {
		select {
		case rd := <-m.g.gathr[root]:
			out[rd.rank] = rd.data
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}
