// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package log

import "github.com/rs/zerolog"

// zerologAdapter satisfies Logger on top of zerolog.Logger, an alternate
// structured-log backend selectable at the relay via --log-format=zerolog.
// Like every Logger in this package, keyvals is an alternating key/value
// sequence; a pair whose key is not a string is skipped, and a trailing
// unpaired element is logged under "extra".
type zerologAdapter struct {
	z zerolog.Logger
}

// NewZerologLogger adapts z to Logger.
func NewZerologLogger(z zerolog.Logger) Logger {
	return &zerologAdapter{z: z}
}

func (a *zerologAdapter) Log(keyvals ...interface{}) error {
	evt := a.z.Log()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		evt = evt.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		evt = evt.Interface("extra", keyvals[len(keyvals)-1])
	}
	evt.Send()
	return nil
}
