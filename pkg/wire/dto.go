package wire

// Wire-level shapes of the PIMS2 REST API. Field names follow the server's
// JSON, which mixes camelCase and PascalCase between endpoints.

// KeyfileInfo is the metadata record behind GET /Keyfiles/{id}.
type KeyfileInfo struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	PseudonymTemplate string   `json:"pseudonymTemplate"`
	CreationDate      string   `json:"creationDate"`
	Members           []Member `json:"members"`
	Deletable         bool     `json:"deletable"`
	Description       string   `json:"description"`
	SequenceNumber    int      `json:"sequenceNumber"`
	WebhookStatus     string   `json:"webhookStatus"`
}

// Member is a user's role binding on a keyfile.
type Member struct {
	ID               int  `json:"id"`
	KeyfileID        int  `json:"keyfileID"`
	User             User `json:"user"`
	RoleDefinitionID int  `json:"roleDefinitionID"`
}

// User is a PIMS account.
type User struct {
	ID          int    `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// listResponse is the paged envelope around collection GETs.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// deidentifyColumn is one column of a deidentify upload. The endpoint models
// its input as a CSV-like file, hence the column naming.
type deidentifyColumn struct {
	Name   string   `json:"Name"`
	Type   []string `json:"Type"`
	Action string   `json:"Action"`
	Values []string `json:"values"`
}

// deidentifyResponse carries the columnar result of a deidentify call. The
// column tagged with pseudonymisationAction "PseudonymOutput" holds the
// pseudonyms, in upload order.
type deidentifyResponse struct {
	Results []struct {
		Name                   string   `json:"name"`
		Values                 []string `json:"values"`
		PseudonymisationAction string   `json:"pseudonymisationAction"`
	} `json:"results"`
	Comments string `json:"comments"`
}

const pseudonymOutputAction = "PseudonymOutput"

// reidentifyRequest asks for the identity and all columns of each pseudonym.
type reidentifyRequest struct {
	ReturnIdentity bool     `json:"ReturnIdentity"`
	ReturnColumns  string   `json:"ReturnColumns"`
	Items          []string `json:"items"`
}

// reidentifyItem is one resolved pseudonym. Value holds the original
// identity, IdentitySource the source it was pseudonymized under.
type reidentifyItem struct {
	ID             int    `json:"id"`
	Value          string `json:"value"`
	IdentitySource string `json:"identitySource"`
	Pseudonym      string `json:"pseudonym"`
}

// reidentifyResponse is the paged envelope around reidentify results.
type reidentifyResponse struct {
	Pseudonyms struct {
		Page          int              `json:"page"`
		PageSize      int              `json:"pageSize"`
		TotalCount    int              `json:"totalCount"`
		CountComplete bool             `json:"countComplete"`
		Items         []reidentifyItem `json:"items"`
	} `json:"pseudonyms"`
	Headers []string `json:"headers"`
}

// setKeysRequest uploads explicit identity-pseudonym pairs.
type setKeysRequest struct {
	Items []setKeysItem `json:"items"`
}

type setKeysItem struct {
	Identity       string `json:"identity"`
	IdentitySource string `json:"identitySource"`
	Pseudonym      string `json:"pseudonym"`
}
