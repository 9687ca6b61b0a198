// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"code.hybscloud.com/kont"
)

// streamHandler implements kont.Handler for stream effects by running
// each operation in its blocking form on the connection.
type streamHandler[R any] struct {
	c *Conn
}

// Dispatch implements kont.Handler via structural interface assertion.
func (h streamHandler[R]) Dispatch(op kont.Operation) (kont.Resumed, bool) {
	sop, ok := op.(streamDispatcher)
	if !ok {
		panic("tcpsync: unhandled effect in streamHandler")
	}
	return sop.execStream(h.c), true
}

// Exec runs a Cont-world stream protocol on c.
// Each operation blocks the way Write and WaitAvailable do: by yielding
// to the connection's loop, without spawning goroutines.
func Exec[R any](c *Conn, protocol kont.Eff[R]) R {
	h := streamHandler[R]{c: c}
	return kont.Handle(protocol, h)
}

// ExecExpr runs an Expr-world stream protocol on c.
func ExecExpr[R any](c *Conn, protocol kont.Expr[R]) R {
	h := streamHandler[R]{c: c}
	return kont.HandleExpr(protocol, h)
}
