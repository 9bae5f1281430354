// Package escrow implements the milestone escrow ledger: the data model for
// escrow agreements and their milestones, the transition engine that is the
// sole writer of escrow state, and the derived per-party and open-status
// indices external callers use to discover agreements.
package escrow
