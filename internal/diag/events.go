package diag

// TopicDiagnostic carries *models.DiagnosticEvent payloads: one event per
// completed probe (successful or failed), plus synthetic events other
// modules feed back. Cancelled probes produce no event.
const TopicDiagnostic = "diag.event"
