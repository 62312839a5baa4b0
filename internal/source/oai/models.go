package oai

// OAI-PMH ListRecords response envelope. Namespace prefixes are matched by
// local name, which is sufficient for the fixed oai_dc layout.
type envelope struct {
	Error       *protocolError `xml:"error"`
	ListRecords listRecords    `xml:"ListRecords"`
}

type protocolError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type listRecords struct {
	Records         []record        `xml:"record"`
	ResumptionToken resumptionToken `xml:"resumptionToken"`
}

type resumptionToken struct {
	Value            string `xml:",chardata"`
	CompleteListSize int    `xml:"completeListSize,attr"`
	Cursor           int    `xml:"cursor,attr"`
}

type record struct {
	Header   header   `xml:"header"`
	Metadata metadata `xml:"metadata"`
}

type header struct {
	Status     string   `xml:"status,attr"`
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpecs   []string `xml:"setSpec"`
}

type metadata struct {
	DC dublinCore `xml:"dc"`
}

type dublinCore struct {
	Title       []string `xml:"title"`
	Creator     []string `xml:"creator"`
	Subject     []string `xml:"subject"`
	Description []string `xml:"description"`
	Date        []string `xml:"date"`
	Type        []string `xml:"type"`
	Identifier  []string `xml:"identifier"`
}
