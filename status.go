package reactio

// Status is a closed, C-style return-code taxonomy, exposed alongside a
// Go error by Socket state-transition methods so callers that want to
// switch on a closed taxonomy can, while idiomatic callers just check
// the error.
type Status int

// Status values.
const (
	StatusOK Status = iota
	StatusInput
	StatusOutput
	StatusError
	StatusBadParam
	StatusBadHostname
	StatusInvalidPort
	StatusTimeout
	StatusPollErr
	StatusConnected
	StatusBound
	StatusOpenFail
	StatusConnectFail
	StatusBindFail
	StatusOpened
	StatusWriteFail
)

var statusNames = map[Status]string{
	StatusOK:          "OK",
	StatusInput:       "INPUT",
	StatusOutput:      "OUTPUT",
	StatusError:       "ERROR",
	StatusBadParam:    "BADPARAM",
	StatusBadHostname: "BADHOSTNAME",
	StatusInvalidPort: "INVALIDPORT",
	StatusTimeout:     "TIMEOUT",
	StatusPollErr:     "POLLERR",
	StatusConnected:   "CONNECTED",
	StatusBound:       "BOUND",
	StatusOpenFail:    "OPEN_FAIL",
	StatusConnectFail: "CONNECT_FAIL",
	StatusBindFail:    "BIND_FAIL",
	StatusOpened:      "OPENED",
	StatusWriteFail:   "WRITE_FAIL",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
