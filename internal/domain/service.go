package domain

// ServiceInfo holds the static service metadata configured by the operator.
type ServiceInfo struct {
	Title             string
	Abstract          string
	Keywords          []string
	Fees              string
	AccessConstraints string
	OnlineResource    string
	ProviderName      string
	ProviderSite      string
	Contact           Contact
}

// Contact holds contact details of the service provider.
type Contact struct {
	IndividualName string
	PositionName   string
	Phone          string
	Email          string
	Address        string
	City           string
	Country        string
}
