package measure

// Groups and names shared by the executor, the orchestrator and the querying
// modes.
const (
	GroupTime     = "time"
	GroupQueries  = "queries"
	GroupAnswers  = "answers"
	GroupThreads  = "threads"
	GroupThread   = "thread"
	GroupStats    = "stats"
	GroupPatterns = "reformulations"

	EvalTotal       = "eval.total"
	StreamCreate    = "eval.stream.create"
	StreamNext      = "eval.stream.next"
	StreamAction    = "eval.stream.action"
	StreamTotal     = "eval.stream.total"
	StreamInhibited = "eval.stream.inhibited"
	Query2Native    = "eval.query2native"
	StatsDBTime     = "stats.db.time"
	SummaryCreate   = "summary.create"
	ThreadsTime     = "threads.time"

	Total     = "total"
	Unique    = "unique"
	Empty     = "empty"
	NonEmpty  = "non-empty"
	Kept      = "kept"
	Dropped   = "dropped"
	BatchNb   = "batch.nb"
	ThreadsNb = "nb"
	Time      = "time"

	DocumentsNb       = "documents.nb"
	QueriesNb         = "queries.nb"
	QueriesEmptyNb    = "queries.empty.nb"
	QueriesNonEmptyNb = "queries.nonempty.nb"
)
