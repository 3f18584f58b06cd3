// Command santa-core runs the endpoint policy-decision engine: the
// Execution-Rule Store, the File-Access Watch-Item Engine, and the
// Pending-Event Store that queues decisions for upstream sync.
package main

import "github.com/santa-policy/core/cmd/santa-core/cmd"

func main() {
	cmd.Execute()
}
