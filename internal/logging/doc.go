// Package logging sets up structured logging for the fleetwar binaries.
//
// # Overview
//
// Every binary calls Init once at startup. Log lines always go to stderr
// in slog's text format; when a log file is configured, the same records
// are also written as JSON, tagged with the service name, through a
// slog-multi fanout:
//
//	            slog.Logger
//	                 │
//	          slogmulti.Fanout
//	         ┌───────┴────────┐
//	   TextHandler        JSONHandler
//	     stderr        LOG_FILE + service_type
//
// # Log Codes
//
// Lines that belong to a deployment stage carry a "code" attribute built
// with Code, so one stage can be filtered out of a busy log:
//
//	SYSTEM    startup, shutdown, configuration
//	NODE      registration and health of node agents
//	PROGRESS  upload and command progress events
//	DEPLOY    deploy pipeline start and end
//	UNDEPLOY  undeploy requests
//	CONFLICT  conflict checks and retirement of old versions
//	MEMORY    memory checks and garbage collection
//	CONVERGE  waiting for new contexts to start
//	ROLLBACK  undeploying contexts after a failure
//
// # Example
//
//	log := logging.Init("coordinator", logging.ParseLevel("debug"), logFile)
//	log.Info("coordinator listening", logging.Code(logging.SYSTEM), "addr", addr)
//
// Tests use Discard to keep output quiet.
package logging
