// Package health tracks peer reachability with periodic probes.
//
// Membership is static, so there is no gossip or incarnation numbering.
// A failed probe marks a peer SUSPECT; a suspect silent past the suspect
// timeout becomes DEAD. Any successful probe restores ALIVE.
package health
