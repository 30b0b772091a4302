package at

import (
	"strconv"
	"strings"
)

// ResultCode is the outcome of an AT command. Negative values are the basic
// V.250 results; non-negative values are the +CME (3GPP TS 27.007 §9.2) and
// +CMS (3GPP TS 27.005 §3.2.5) error numbers, so they can be compared
// directly against what a modem reports in numeric mode.
type ResultCode int

const (
	ResultOK         ResultCode = -1
	ResultConnect    ResultCode = -2
	ResultNoCarrier  ResultCode = -3
	ResultError      ResultCode = -4
	ResultNoDialtone ResultCode = -5
	ResultBusy       ResultCode = -6
	ResultNoAnswer   ResultCode = -7
	// ResultDead means the channel failed or timed out before a final line.
	ResultDead ResultCode = -8

	// +CME ERROR, general
	ResultPhoneFailure             ResultCode = 0
	ResultNoConnectionToPhone      ResultCode = 1
	ResultPhoneAdapterLinkReserved ResultCode = 2
	ResultOperationNotAllowed      ResultCode = 3
	ResultOperationNotSupported    ResultCode = 4
	ResultPhSimPinRequired         ResultCode = 5
	ResultPhFSimPinRequired        ResultCode = 6
	ResultPhFSimPukRequired        ResultCode = 7
	ResultSimNotInserted           ResultCode = 10
	ResultSimPinRequired           ResultCode = 11
	ResultSimPukRequired           ResultCode = 12
	ResultSimFailure               ResultCode = 13
	ResultSimBusy                  ResultCode = 14
	ResultSimWrong                 ResultCode = 15
	ResultIncorrectPassword        ResultCode = 16
	ResultSimPin2Required          ResultCode = 17
	ResultSimPuk2Required          ResultCode = 18
	ResultMemoryFull               ResultCode = 20
	ResultInvalidIndex             ResultCode = 21
	ResultNotFound                 ResultCode = 22
	ResultMemoryFailure            ResultCode = 23
	ResultTextStringTooLong        ResultCode = 24
	ResultInvalidCharsInTextString ResultCode = 25
	ResultDialStringTooLong        ResultCode = 26
	ResultInvalidCharsInDialString ResultCode = 27
	ResultNoNetworkService         ResultCode = 30
	ResultNetworkTimeout           ResultCode = 31
	ResultNetworkNotAllowed        ResultCode = 32
	ResultNetPersPinRequired       ResultCode = 40
	ResultNetPersPukRequired       ResultCode = 41
	ResultNetSubsetPersPinRequired ResultCode = 42
	ResultNetSubsetPersPukRequired ResultCode = 43
	ResultServProvPersPinRequired  ResultCode = 44
	ResultServProvPersPukRequired  ResultCode = 45
	ResultCorpPersPinRequired      ResultCode = 46
	ResultCorpPersPukRequired      ResultCode = 47
	ResultPhSimPukRequired         ResultCode = 48
	ResultUnknown                  ResultCode = 100

	// +CME ERROR, GPRS
	ResultIllegalMS                  ResultCode = 103
	ResultIllegalME                  ResultCode = 106
	ResultGPRSServicesNotAllowed     ResultCode = 107
	ResultPLMNNotAllowed             ResultCode = 111
	ResultLocationAreaNotAllowed     ResultCode = 112
	ResultRoamingNotAllowed          ResultCode = 113
	ResultServiceOptionNotSupported  ResultCode = 132
	ResultServiceOptionNotSubscribed ResultCode = 133
	ResultServiceOptionOutOfOrder    ResultCode = 134
	ResultUnspecifiedGPRSError       ResultCode = 148
	ResultPDPAuthenticationFailure   ResultCode = 149
	ResultInvalidMobileClass         ResultCode = 150

	// +CMS ERROR
	ResultMEFailure                ResultCode = 300
	ResultSMSServiceOfMEReserved   ResultCode = 301
	ResultSMSOperationNotAllowed   ResultCode = 302
	ResultSMSOperationNotSupported ResultCode = 303
	ResultInvalidPDUModeParameter  ResultCode = 304
	ResultInvalidTextModeParameter ResultCode = 305
	ResultUSimNotInserted          ResultCode = 310
	ResultUSimPinRequired          ResultCode = 311
	ResultPHUSimPinRequired        ResultCode = 312
	ResultUSimFailure              ResultCode = 313
	ResultUSimBusy                 ResultCode = 314
	ResultUSimWrong                ResultCode = 315
	ResultUSimPukRequired          ResultCode = 316
	ResultUSimPin2Required         ResultCode = 317
	ResultUSimPuk2Required         ResultCode = 318
	ResultSMSMemoryFailure         ResultCode = 320
	ResultInvalidMemoryIndex       ResultCode = 321
	ResultSMSMemoryFull            ResultCode = 322
	ResultSMSCAddressUnknown       ResultCode = 330
	ResultSMSNoNetworkService      ResultCode = 331
	ResultSMSNetworkTimeout        ResultCode = 332
	ResultNoCNMAAckExpected        ResultCode = 340
	ResultUnknownError             ResultCode = 500
)

// verbose +CME ERROR texts (AT+CMEE=2), lower-cased
var cmeTexts = map[string]ResultCode{
	"phone failure":                           ResultPhoneFailure,
	"no connection to phone":                  ResultNoConnectionToPhone,
	"phone-adaptor link reserved":             ResultPhoneAdapterLinkReserved,
	"operation not allowed":                   ResultOperationNotAllowed,
	"operation not supported":                 ResultOperationNotSupported,
	"ph-sim pin required":                     ResultPhSimPinRequired,
	"ph-fsim pin required":                    ResultPhFSimPinRequired,
	"ph-fsim puk required":                    ResultPhFSimPukRequired,
	"sim not inserted":                        ResultSimNotInserted,
	"sim pin required":                        ResultSimPinRequired,
	"sim puk required":                        ResultSimPukRequired,
	"sim failure":                             ResultSimFailure,
	"sim busy":                                ResultSimBusy,
	"sim wrong":                               ResultSimWrong,
	"incorrect password":                      ResultIncorrectPassword,
	"sim pin2 required":                       ResultSimPin2Required,
	"sim puk2 required":                       ResultSimPuk2Required,
	"memory full":                             ResultMemoryFull,
	"invalid index":                           ResultInvalidIndex,
	"not found":                               ResultNotFound,
	"memory failure":                          ResultMemoryFailure,
	"text string too long":                    ResultTextStringTooLong,
	"invalid characters in text string":       ResultInvalidCharsInTextString,
	"dial string too long":                    ResultDialStringTooLong,
	"invalid characters in dial string":       ResultInvalidCharsInDialString,
	"no network service":                      ResultNoNetworkService,
	"network timeout":                         ResultNetworkTimeout,
	"network not allowed - emergency calls only": ResultNetworkNotAllowed,
	"network personalization pin required":    ResultNetPersPinRequired,
	"network personalization puk required":    ResultNetPersPukRequired,
	"unknown":                                 ResultUnknown,
	"illegal ms":                              ResultIllegalMS,
	"illegal me":                              ResultIllegalME,
	"gprs services not allowed":               ResultGPRSServicesNotAllowed,
	"plmn not allowed":                        ResultPLMNNotAllowed,
	"location area not allowed":               ResultLocationAreaNotAllowed,
	"roaming not allowed in this location area": ResultRoamingNotAllowed,
}

// Result is the completed response to one AT command.
type Result struct {
	// Command is the command line that was sent, without the trailing CR.
	Command string
	// Content holds the intermediate lines joined by '\n', excluding the
	// final result line.
	Content string
	// Code is the parsed final result.
	Code ResultCode
}

// OK reports whether the command completed with OK.
func (r Result) OK() bool {
	return r.Code == ResultOK
}

// ParseResultCode maps a final response line to its ResultCode. Both numeric
// (AT+CMEE=1) and verbose (AT+CMEE=2) error reports are understood.
func ParseResultCode(line string) ResultCode {
	switch {
	case line == OK:
		return ResultOK
	case line == ERROR:
		return ResultError
	case strings.HasPrefix(line, Connect):
		return ResultConnect
	case line == NoCarrier:
		return ResultNoCarrier
	case line == NoDialtone:
		return ResultNoDialtone
	case line == Busy:
		return ResultBusy
	case line == NoAnswer:
		return ResultNoAnswer
	case strings.HasPrefix(line, CmeError):
		return parseErrorValue(line[len(CmeError):], cmeTexts, ResultUnknown)
	case strings.HasPrefix(line, CmsError):
		return parseErrorValue(line[len(CmsError):], nil, ResultUnknownError)
	default:
		return ResultError
	}
}

func parseErrorValue(value string, texts map[string]ResultCode, fallback ResultCode) ResultCode {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return ResultCode(n)
	}
	if code, ok := texts[strings.ToLower(value)]; ok {
		return code
	}
	return fallback
}
