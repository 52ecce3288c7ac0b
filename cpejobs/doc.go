// Package cpejobs implements the CPE (Cloud Processing Engine) client SDK on
// top of AWS SQS.
//
// The central type is [SDK]. Controllers use it to publish job and activity
// lifecycle notifications (JOB_STARTED, ACTIVITY_PROGRESS, ...) to the output
// queue of the client a job belongs to; client applications use it to send
// START_JOB commands to their input queue and to poll and delete the
// notifications coming back.
//
// Every message is an [Envelope]: a JSON object with the time, the message
// type, the job id and a type specific data object.
//
// Queue access goes through a [Manager]. Clients with a role are served with
// temporary credentials obtained from STS, renewed when less than five
// minutes of validity are left; other clients share one handle built from the
// base credentials.
//
// Operations emit OpenTelemetry spans and propagate the trace context through
// SQS message attributes using the W3C TraceContext, Baggage and Jaeger
// propagators.
package cpejobs
