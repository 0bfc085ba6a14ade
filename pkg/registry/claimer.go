// Copyright 2025 Certen Protocol
//
// Claimer records job->host assignments and their lifecycle status, safe
// under many concurrent callers. Reassignment requires the new host to be
// currently registered in the facade it is given.

package registry

import (
	"fmt"
	"sync"
)

// AssignmentStatus is the lifecycle state of a job assignment.
type AssignmentStatus string

const (
	StatusConfirmed  AssignmentStatus = "Confirmed"
	StatusReassigned AssignmentStatus = "Reassigned"
	StatusReleased   AssignmentStatus = "Released"
)

// Assignment records one job's current host and status.
type Assignment struct {
	JobID       string
	HostAddress string
	Status      AssignmentStatus
}

// Claimer tracks job assignments.
type Claimer struct {
	mu          sync.Mutex
	assignments map[string]Assignment
}

// NewClaimer returns an empty Claimer.
func NewClaimer() *Claimer {
	return &Claimer{assignments: make(map[string]Assignment)}
}

// AssignJobToHost records a new Confirmed assignment for jobID. registry is
// consulted to ensure host is currently registered.
func (c *Claimer) AssignJobToHost(jobID, host string, registry *Facade) error {
	if _, ok := registry.GetHostMetadata(host); !ok {
		return fmt.Errorf("host %s is not registered", host)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.assignments[jobID] = Assignment{JobID: jobID, HostAddress: host, Status: StatusConfirmed}
	return nil
}

// ReassignJob moves jobID to newHost, rejecting the change if newHost is not
// currently registered. The prior assignment's record is overwritten with
// the new host and a Reassigned status.
func (c *Claimer) ReassignJob(jobID, newHost string, registry *Facade) error {
	if _, ok := registry.GetHostMetadata(newHost); !ok {
		return fmt.Errorf("host %s is not registered", newHost)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.assignments[jobID]; !ok {
		return fmt.Errorf("job %s has no existing assignment", jobID)
	}
	c.assignments[jobID] = Assignment{JobID: jobID, HostAddress: newHost, Status: StatusReassigned}
	return nil
}

// Release marks jobID's assignment as Released.
func (c *Claimer) Release(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assignments[jobID]
	if !ok {
		return fmt.Errorf("job %s has no existing assignment", jobID)
	}
	a.Status = StatusReleased
	c.assignments[jobID] = a
	return nil
}

// Get returns the current assignment for jobID.
func (c *Claimer) Get(jobID string) (Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assignments[jobID]
	return a, ok
}
