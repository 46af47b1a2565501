package types

// Wire-level names shared by the query writer, the decoder and the socket
// layer.
const (
	// GraphQLTag is the struct tag name used to specify GraphQL field
	// mappings, aliases and arguments when deriving selections from structs.
	GraphQLTag = "graphql"

	// JSONTag is the fallback struct tag consulted for field names.
	JSONTag = "json"

	// TypenameField is the GraphQL introspection field used for record
	// type dispatch.
	TypenameField = "__typename"

	// DataField holds the items of a paginated collection, and the payload
	// of a response envelope.
	DataField = "data"

	// ExtensionsField holds response extensions.
	ExtensionsField = "extensions"

	// PaginatorInfoField holds the pagination envelope of a paginated field.
	PaginatorInfoField = "paginatorInfo"

	// PaginatorSuffix marks the type name of a paginated collection
	// (e.g. "NationPaginator").
	PaginatorSuffix = "Paginator"

	// PersistedQueryNotFoundCode is the error extension code returned when
	// the server has no query cached for a persisted query hash.
	PersistedQueryNotFoundCode = "PERSISTED_QUERY_NOT_FOUND"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitInterval  = "X-RateLimit-Interval"
)

// Headers sent with privileged mutations.
const (
	HeaderBotKey = "X-Bot-Key"
	HeaderAPIKey = "X-Api-Key"
)

// PaginatorInfoFields lists the pagination counters requested verbatim for
// every paginated root field.
var PaginatorInfoFields = []string{
	"count",
	"currentPage",
	"firstItem",
	"hasMorePages",
	"lastItem",
	"lastPage",
	"perPage",
	"total",
}
