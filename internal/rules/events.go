package rules

// TopicDirective carries models.Directive payloads: one per rule firing,
// consumed exactly once by the dispatcher.
const TopicDirective = "rules.directive"
