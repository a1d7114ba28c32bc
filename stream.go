// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"context"
	"io"
)

// OpenStream returns a cancellable reader over the entry's
// uncompressed payload. Cancellation is checked before every store
// read and nowhere else: decompression and decryption of bytes already
// fetched always run to completion, so a cancelled stream never yields
// a torn transform state, only ctx.Err from the next store read.
//
// Closing the stream before EOF leaves no guarantee about how much of
// the payload was consumed from the store.
func (e *Entry) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.open(ctx)
}
