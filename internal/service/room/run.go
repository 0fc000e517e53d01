package room

// BeginRun flips the session into the running state and records the job
// reference. Rejected while another job is live; the caller reports that to
// the requester only.
func (s *Service) BeginRun(sessionID string, job JobHandle) error {
	st, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running {
		return ErrAlreadyRunning
	}
	st.running = true
	st.job = job
	return nil
}

// EndRun clears the running flag and the job reference. The job id guards
// against a stale streamer clearing a newer run's state.
func (s *Service) EndRun(sessionID, jobID string) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.job != nil && st.job.ID() != jobID {
		return
	}
	st.running = false
	st.job = nil
}
