// Package supervisor keeps a fleet of consumer processes alive.
//
// Each of N slots runs one consumer process. Exited processes are relaunched
// into their slot after a delay until the slot's restart budget is spent, at
// which point the slot is abandoned and the rest of the fleet keeps running.
// Supervisor and consumers share nothing but exit codes.
package supervisor
