// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

// Package tunnel is fast and secure client/server package that enables proxying
// public connections to your local machine over a tunnel connection from the
// local machine to the public server.
package tunnel
