package featureflag

type Flag string

const (
	// Checks, once the topology is built, that every group communicator
	// holds exactly the processes the partition tree expects.
	FlagVerifyGroups Flag = "VERIFY_GROUPS"

	// Logs the load-balance diagnostics of the partition after each
	// initialization.
	FlagLogDiagnostics Flag = "LOG_DIAGNOSTICS"
)
