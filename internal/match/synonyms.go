package match

// builtinSynonyms groups words that should match each other across role
// descriptions and task phrasings. Extend at runtime via AddSynonyms.
var builtinSynonyms = [][]string{
	{"developer", "engineer", "coder", "programmer"},
	{"research", "analyze", "investigate", "study", "examine"},
	{"write", "draft", "compose", "author", "create"},
	{"review", "audit", "inspect", "check", "evaluate"},
	{"plan", "design", "architect", "organize"},
	{"test", "verify", "validate", "qa"},
	{"fix", "repair", "debug", "patch", "resolve"},
	{"summarize", "condense", "digest", "recap"},
	{"translate", "localize", "convert"},
	{"data", "dataset", "statistics", "metrics"},
	{"report", "document", "documentation", "writeup"},
	{"search", "find", "lookup", "locate", "discover"},
	{"manage", "coordinate", "organize", "administer"},
	{"financial", "finance", "budget", "accounting"},
	{"legal", "law", "compliance", "regulatory"},
	{"marketing", "promotion", "advertising", "outreach"},
	{"assistant", "helper", "aide", "specialist"},
	{"analyst", "researcher", "investigator", "specialist", "expert"},
	{"security", "infosec", "vulnerability", "pentest"},
	{"deploy", "release", "ship", "publish", "rollout"},
	{"monitor", "watch", "track", "observe"},
	{"optimize", "improve", "tune", "refine", "enhance"},
}
