package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = ">"

	// Response Codes
	OK               = "OK"
	ERROR            = "ERROR"
	Fail             = "FAIL"
	CmeError         = "+CME ERROR:"
	SendOK           = "SEND OK"
	SendFail         = "SEND FAIL"
	AlreadyConnected = "ALREADY CONNECT"
	NoAP             = "No AP"
	Ready            = "ready"

	// Status reports
	StatusHeader = "STATUS:"
	ConnStatus   = "+CIPSTATUS:"

	// URCs (Unsolicited Result Codes)
	UrcData           = "+IPD,"
	UrcClosed         = "CLOSED"
	UrcConnect        = "CONNECT"
	UrcWifiConnected  = "WIFI CONNECTED"
	UrcWifiGotIP      = "WIFI GOT IP"
	UrcWifiDisconnect = "WIFI DISCONNECT"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, SEND OK
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CIPSTATUS: ...)
	TypePrompt                     // Raw data input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
