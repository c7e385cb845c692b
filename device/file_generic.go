// Copyright 2025 The Logstor Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build !linux
// +build !linux

package device

func (d *File) datasync() error {
	return d.f.Sync()
}
