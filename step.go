// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"code.hybscloud.com/kont"
)

// Step evaluates a stream protocol until the first effect suspension.
// Returns (result, nil) on completion, or (zero, suspension) if pending.
func Step[R any](protocol kont.Expr[R]) (R, *kont.Suspension[R]) {
	return kont.StepExpr(protocol)
}

// Advance dispatches the suspended stream operation on c.
// DispatchStream is non-blocking: it returns iox.ErrWouldBlock when the
// connection cannot make progress yet, typically until the loop ran the
// next receive or acknowledgement callback.
//
// On success (nil error), the suspension is consumed and the protocol
// advances to the next effect or completion.
// On iox.ErrWouldBlock, the suspension is unconsumed and may be retried.
// Any other error is final for the connection; the suspension is left
// unconsumed for the caller to discard.
func Advance[R any](c *Conn, susp *kont.Suspension[R]) (R, *kont.Suspension[R], error) {
	sop, ok := susp.Op().(streamDispatcher)
	if !ok {
		panic("tcpsync: unhandled effect in Advance")
	}
	v, err := sop.DispatchStream(c)
	if err != nil {
		var zero R
		return zero, susp, err
	}
	result, next := susp.Resume(v)
	return result, next, nil
}
