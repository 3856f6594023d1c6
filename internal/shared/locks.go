package shared

// ReconcileLockKey is the redis key guarding the nightly ledger reconciliation.
const ReconcileLockKey = "inventory:reconcile:lock"
