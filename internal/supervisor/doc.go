// Package supervisor drives the lifecycle of supervised units: launching
// instances, awaiting the readiness signal, and applying restart policy
// when a process exits. Each Supervisor owns exactly one unit, passed in
// at construction, and keeps at most one instance live at any time.
package supervisor
