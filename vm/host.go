package vm

// NoopHost rejects every ecall subcode the core doesn't define itself,
// halting the guest exactly as if no host integrator were attached. It
// is the default HostSyscall for callers that don't need to extend the
// ecall surface beyond spec.md's exit/putchar pair.
func NoopHost(s *State, subcode, arg uint32) bool {
	return false
}
