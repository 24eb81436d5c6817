package export

// Bundle maps logical section names (profile, consents, preferences,
// activity domains) to the sanitized record set collected for one subject.
// It exists only for the duration of one export job.
type Bundle map[string]interface{}
