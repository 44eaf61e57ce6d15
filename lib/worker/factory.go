// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "fmt"

// New builds the backend for task.Kind. The backend is pending; call
// Start to run it. An unknown kind is the only error.
func New(task Task, config Config) (Backend, error) {
	config = config.withDefaults()
	switch task.Kind {
	case KindSubprocess:
		return newSubprocess(task, config), nil
	case KindAPI:
		return newAPI(task, config), nil
	case KindTerminal:
		return newTerminal(task, config), nil
	case KindContainer:
		return newContainer(task, config), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, task.Kind)
	}
}
