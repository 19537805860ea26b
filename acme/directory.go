package acme

// Directory is the ACME server's discovery document: a map of operation
// name to URL plus metadata. See RFC 8555 section 7.1.1.
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewAuthz   string `json:"newAuthz,omitempty"`
	RevokeCert string `json:"revokeCert"`
	KeyChange  string `json:"keyChange"`
	Meta       Meta   `json:"meta,omitempty"`
}

// Meta carries the optional directory metadata object.
type Meta struct {
	TermsOfService          string   `json:"termsOfService,omitempty"`
	Website                 string   `json:"website,omitempty"`
	CAAIdentities           []string `json:"caaIdentities,omitempty"`
	ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`
}

// Endpoint looks up a directory entry by its RFC 8555 name. The second
// return value is false if the CA's directory does not advertise the
// endpoint (e.g. newAuthz, which is optional).
func (d Directory) Endpoint(name string) (string, bool) {
	var url string
	switch name {
	case EndpointNewNonce:
		url = d.NewNonce
	case EndpointNewAccount:
		url = d.NewAccount
	case EndpointNewOrder:
		url = d.NewOrder
	case EndpointNewAuthz:
		url = d.NewAuthz
	case EndpointRevokeCert:
		url = d.RevokeCert
	case EndpointKeyChange:
		url = d.KeyChange
	default:
		return "", false
	}
	if url == "" {
		return "", false
	}
	return url, true
}
