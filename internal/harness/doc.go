// Package harness provides conversation scenario testing for beastmode
// definitions.
//
// The harness loads rule, flow and workflow definitions, replays a scripted
// conversation through the real engine, and checks the replies, the calls
// that reached the trigger backend and the audit log.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	definitions:
//	  - definitions            # files or directories
//	failures: [not_delivered]  # optional trigger script
//	turns:
//	  - say: create 3 tenants
//	    expect:
//	      lines: ["Creating 3 tenants.", "..."]
//	      contains: ["create-tenants"]
//	      choices: ["1. Web Application"]
//	      confirm: "Proceed?"
//	      state: idle
//	      dispatches: 1
//	assertions:
//	  - type: dispatched
//	    workflow: create-tenants
//	    inputs: { count: 3 }
//	  - type: audit_count
//	    count: 1
//
// # Assertion Types
//
//   - dispatched: a backend call of the workflow with matching inputs
//   - dispatch_order: workflows first reached the backend in this order
//   - dispatch_count: number of backend calls, optionally per workflow
//   - audit_count: number of audit records written
//   - final_state: a session's final dialogue state and topic
//
// # Deterministic Testing
//
// Every scenario runs with a fresh in-memory SQLite audit log, a manual
// clock, sequential audit and session ids, and a scripted fake trigger
// whose run URLs are numbered by call. The same scenario therefore always
// produces the same transcript, which Transcript renders for golden
// comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenarioWithBasePath("testdata/scenarios/create_tenants.yaml", ".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range result.Errors {
//	    log.Println(e)
//	}
package harness
