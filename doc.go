// Package serial is the session harness used by the Ocre hardware acceptance
// tests. It opens a board's serial console on Linux, interrupts the running
// image with a break, and verifies what the board prints.
//
// Features:
//   - Raw syscall-based serial I/O on Linux with stale input discarded at open
//   - Hardware break signal and explicit input/output buffer resets
//   - Every read is bounded by a timeout; Close unblocks a read in progress
//   - Matcher: expect-style "block until one of these substrings" plus a
//     fixed-wait bulk read, over the same buffered stream
//   - Checklist: required and forbidden substrings with explicit ordering
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	s, err := serial.Open(serial.Config{
//	    Device:      "/dev/ttyACM0",
//	    BaudRate:    115200,
//	    ReadTimeout: 10 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.SendBreak(time.Second); err != nil {
//	    log.Fatal(err)
//	}
//
//	m := serial.NewMatcher(s)
//	res, err := serial.Checklist{
//	    Lines:   []string{"powered by Ocre", "Demo completed successfully"},
//	    Ordered: true,
//	    Timeout: 30 * time.Second,
//	}.Verify(m)
//	if err != nil || !res.Passed {
//	    log.Printf("missing %v\n%s", res.Missing, res.Output)
//	}
package serial
