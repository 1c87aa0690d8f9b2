// Package approval implements the checkpoint that sits between analysis and
// implementation. Every iteration's surviving recommendations are assessed
// for risk and cost and, depending on the gate mode, either pass
// automatically or wait for an external verdict.
//
// # Modes
//
//   - always: every iteration waits for an approver.
//   - threshold: iterations within the configured risk and cost limits pass
//     automatically; the rest wait for an approver.
//   - auto: the gate approves everything.
//
// # Approvers
//
// The wait is delegated to an Approver. The package ships four:
//
//   - PolicyApprover decides immediately from risk and cost limits.
//   - ChannelApprover queues requests in process; the HTTP API and CLI
//     resolve them.
//   - NATSApprover sends the request over NATS request/reply.
//   - FileApprover writes a request file and waits for a decision file.
//
// Every wait is bounded by the gate timeout. When it expires the gate applies
// its timeout decision, which defaults to deny.
package approval
