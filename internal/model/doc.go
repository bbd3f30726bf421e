// Package model provides the record types shared by every autokit component.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key constraints:
//   - Workflow.ID and Run.ID are primary keys and never change once assigned
//   - A zero time.Time means "absent" for Run.EndedAt and "leave unchanged"
//     for Run.StartedAt/EndedAt on updates (merge-on-zero)
//   - Run status only moves Running -> Success or Running -> Error
//   - Events are immutable and never persisted
package model
