// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"bytes"

	"code.hybscloud.com/kont"
)

// SendThen writes p and then continues with next.
// Fuses Perform(Send{Data: p}) + Then.
func SendThen[B any](p []byte, next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(Send{Data: p}), next)
}

// RecvBind reads up to max buffered bytes and passes them to f.
// Fuses Perform(Recv{Max: max}) + Bind.
func RecvBind[B any](max int, f func([]byte) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(Recv{Max: max}), f)
}

// CloseDone closes the connection and returns a.
// Fuses Perform(Close{}) + Then + Pure.
func CloseDone[A any](a A) kont.Eff[A] {
	return kont.Then(kont.Perform(Close{}), kont.Pure(a))
}

// RecvUntil reads until delim is seen, limit bytes were collected, the
// stream ends, or a read stalls past the timeout, and passes the collected
// bytes (delim included) to f. Bytes after delim stay buffered for the
// next read. f receives nil only when the stream ended before any byte
// arrived, and an empty non-nil slice when nothing arrived in time.
func RecvUntil[B any](delim byte, limit int, f func([]byte) kont.Eff[B]) kont.Eff[B] {
	return recvUntil(nil, delim, limit, f)
}

func recvUntil[B any](acc []byte, delim byte, limit int, f func([]byte) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(RecvDelim{Delim: delim, Max: limit - len(acc)}), func(p []byte) kont.Eff[B] {
		if p == nil {
			return f(acc)
		}
		if len(p) == 0 {
			if acc == nil {
				acc = []byte{}
			}
			return f(acc)
		}
		acc = append(acc, p...)
		if len(acc) >= limit || bytes.IndexByte(p, delim) >= 0 {
			return f(acc)
		}
		return recvUntil(acc, delim, limit, f)
	})
}
