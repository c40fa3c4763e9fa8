// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"moonwake.dev/lua"
	"zombiezen.com/go/xcontext"
)

// tcpState tracks open sockets by the integer handles handed to
// scripts. Sockets are additionally bound to the run context through
// xcontext.CloseWhenDone, so they close when the run is canceled even
// if the script never does.
type tcpState struct {
	mu        sync.Mutex
	nextID    int64
	conns     map[int64]net.Conn
	listeners map[int64]net.Listener
	closers   []io.Closer
}

func newTCPState() *tcpState {
	return &tcpState{
		nextID:    1,
		conns:     make(map[int64]net.Conn),
		listeners: make(map[int64]net.Listener),
	}
}

func (st *tcpState) addConn(ctx context.Context, c net.Conn) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	id := st.nextID
	st.nextID++
	st.conns[id] = c
	st.closers = append(st.closers, xcontext.CloseWhenDone(ctx, c))
	return id
}

func (st *tcpState) addListener(ctx context.Context, l net.Listener) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	id := st.nextID
	st.nextID++
	st.listeners[id] = l
	st.closers = append(st.closers, xcontext.CloseWhenDone(ctx, l))
	return id
}

func (st *tcpState) conn(id int64) (net.Conn, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.conns[id]
	if !ok {
		return nil, fmt.Errorf("tcp: connection %d is closed", id)
	}
	return c, nil
}

func (st *tcpState) listener(id int64) (net.Listener, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.listeners[id]
	if !ok {
		return nil, fmt.Errorf("tcp: listener %d is closed", id)
	}
	return l, nil
}

func (st *tcpState) closeHandle(id int64) error {
	st.mu.Lock()
	c, okC := st.conns[id]
	l, okL := st.listeners[id]
	delete(st.conns, id)
	delete(st.listeners, id)
	st.mu.Unlock()
	switch {
	case okC:
		return c.Close()
	case okL:
		return l.Close()
	default:
		return nil
	}
}

func (st *tcpState) close() {
	st.mu.Lock()
	closers := st.closers
	st.closers = nil
	st.conns = make(map[int64]net.Conn)
	st.listeners = make(map[int64]net.Listener)
	st.mu.Unlock()
	for _, c := range closers {
		c.Close()
	}
}

// tcpGlue wraps the raw handle functions in method tables, so scripts
// see connections and listeners as objects.
const tcpGlue = `local tcp = ...
local function conn(id)
	return {
		read = function(n) return tcp._read(id, n) end,
		write = function(s) return tcp._write(id, s) end,
		addr = function() return tcp._addr(id) end,
		close = function() return tcp._close(id) end,
	}
end
tcp.dial = function(addr) return conn(tcp._dial(addr)) end
tcp.listen = function(addr)
	local id = tcp._listen(addr)
	return {
		accept = function() return conn(tcp._accept(id)) end,
		addr = function() return tcp._addr(id) end,
		close = function() return tcp._close(id) end,
	}
end
`

// registerTCPModule publishes the tcp module:
//
//	local c = tcp.dial(addr)        -- suspends while connecting
//	c.read(n), c.write(s)           -- suspend on I/O
//	local l = tcp.listen(addr)
//	l.accept()                      -- suspends until a peer connects
//
// read returns nil at end of stream.
func (in *interp) registerTCPModule() error {
	in.tcp = newTCPState()
	st := in.tcp

	dial, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		addr, err := stringArg(args, 0, "address")
		if err != nil {
			return nil, err
		}
		c, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return []lua.Value{st.addConn(in.ctx, c)}, nil
	})
	if err != nil {
		return err
	}
	listen, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		addr, err := stringArg(args, 0, "address")
		if err != nil {
			return nil, err
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return []lua.Value{st.addListener(in.ctx, l)}, nil
	})
	if err != nil {
		return err
	}
	accept, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		id, err := intArg(args, 0, "listener handle")
		if err != nil {
			return nil, err
		}
		l, err := st.listener(id)
		if err != nil {
			return nil, err
		}
		c, err := l.Accept()
		if err != nil {
			return nil, err
		}
		return []lua.Value{st.addConn(in.ctx, c)}, nil
	})
	if err != nil {
		return err
	}
	read, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		id, err := intArg(args, 0, "connection handle")
		if err != nil {
			return nil, err
		}
		n, err := intArg(args, 1, "byte count")
		if err != nil {
			return nil, err
		}
		c, err := st.conn(id)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		read, err := c.Read(buf)
		if read > 0 {
			return []lua.Value{string(buf[:read])}, nil
		}
		if errors.Is(err, io.EOF) {
			return []lua.Value{nil}, nil
		}
		return nil, err
	})
	if err != nil {
		return err
	}
	write, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		id, err := intArg(args, 0, "connection handle")
		if err != nil {
			return nil, err
		}
		s, err := stringArg(args, 1, "data")
		if err != nil {
			return nil, err
		}
		c, err := st.conn(id)
		if err != nil {
			return nil, err
		}
		n, err := c.Write([]byte(s))
		if err != nil {
			return nil, err
		}
		return []lua.Value{int64(n)}, nil
	})
	if err != nil {
		return err
	}
	closeFn, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		id, err := intArg(args, 0, "handle")
		if err != nil {
			return nil, err
		}
		if err := st.closeHandle(id); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	addrFn, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		id, err := intArg(args, 0, "handle")
		if err != nil {
			return nil, err
		}
		if c, err := st.conn(id); err == nil {
			return []lua.Value{c.RemoteAddr().String()}, nil
		}
		l, err := st.listener(id)
		if err != nil {
			return nil, err
		}
		return []lua.Value{l.Addr().String()}, nil
	})
	if err != nil {
		return err
	}

	if err := in.registerModule("tcp", map[string]lua.Value{
		"_dial":   dial,
		"_listen": listen,
		"_accept": accept,
		"_read":   read,
		"_write":  write,
		"_close":  closeFn,
		"_addr":   addrFn,
	}); err != nil {
		return err
	}

	// Layer the object wrappers over the raw handle functions.
	glue, err := in.rt.LoadString(tcpGlue, "=(tcp)")
	if err != nil {
		return err
	}
	defer glue.Release()
	mod, err := in.moduleTable("tcp")
	if err != nil {
		return err
	}
	defer mod.Release()
	_, err = in.rt.Call(glue, mod)
	return err
}
