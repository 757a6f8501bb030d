package model

import (
	"fmt"
	"strings"
)

// TransactionType classifies a payment instruction.
type TransactionType string

const (
	TransactionStandard              TransactionType = "standard"
	TransactionFederalWithholding    TransactionType = "federal_withholding"
	TransactionStateWithholding      TransactionType = "state_withholding"
	TransactionEmployerReimbursement TransactionType = "employer_reimbursement"
	TransactionOverpayment           TransactionType = "overpayment"
)

// vendorTransactionTypes maps extract values to transaction types.
var vendorTransactionTypes = map[string]TransactionType{
	"STANDARD":                TransactionStandard,
	"FEDERAL_TAX_WITHHOLDING": TransactionFederalWithholding,
	"STATE_TAX_WITHHOLDING":   TransactionStateWithholding,
	"EMPLOYER_REIMBURSEMENT":  TransactionEmployerReimbursement,
	"OVERPAYMENT":             TransactionOverpayment,
}

// ParseTransactionType maps the vendor's extract value.
func ParseTransactionType(s string) (TransactionType, error) {
	if t, ok := vendorTransactionTypes[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// IsWithholding reports whether the payment goes to a tax authority.
func (t TransactionType) IsWithholding() bool {
	return t == TransactionFederalWithholding || t == TransactionStateWithholding
}

// PaymentMethod is how a payment is disbursed.
type PaymentMethod string

const (
	MethodACH   PaymentMethod = "ach"
	MethodCheck PaymentMethod = "check"
)

// ParsePaymentMethod maps the vendor's extract value.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "elec funds transfer", "ach", "eft":
		return MethodACH, nil
	case "check":
		return MethodCheck, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// AccountType is the kind of bank account an ACH entry credits.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
)

// ParseAccountType maps the vendor's extract value.
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "checking":
		return AccountChecking, nil
	case "savings":
		return AccountSavings, nil
	}
	return "", fmt.Errorf("unknown account type %q", s)
}

// LeaveType is the leave category; NACHA batches are keyed by it.
type LeaveType string

const (
	LeaveFamily  LeaveType = "family"
	LeaveMedical LeaveType = "medical"
)

// ParseLeaveType maps the vendor's extract value.
func ParseLeaveType(s string) (LeaveType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "family":
		return LeaveFamily, nil
	case "medical":
		return LeaveMedical, nil
	}
	return "", fmt.Errorf("unknown leave type %q", s)
}

// WritebackStatus is the transaction status reported back to the vendor.
type WritebackStatus string

const (
	WritebackActive                 WritebackStatus = "Active"
	WritebackPaid                   WritebackStatus = "Paid"
	WritebackPendingAudit           WritebackStatus = "Pending Audit"
	WritebackAuditRejected          WritebackStatus = "Audit Rejected"
	WritebackAddressValidationError WritebackStatus = "Address Validation Error"
	WritebackDataValidationError    WritebackStatus = "Data Validation Error"
	WritebackVoid                   WritebackStatus = "Void"
	WritebackStale                  WritebackStatus = "Stale"
	WritebackStop                   WritebackStatus = "Stop"
)

// VendorStatus is the coarse status column of the writeback file.
func (s WritebackStatus) VendorStatus() string {
	switch s {
	case WritebackActive, WritebackPaid:
		return "Active"
	default:
		return "Pending"
	}
}

// ReferenceFileType tags what a reference file contains.
type ReferenceFileType string

const (
	FileVendorExtract ReferenceFileType = "vendor_extract"
	FileNACHA         ReferenceFileType = "nacha"
	FileCheck         ReferenceFileType = "check"
	FileCheckReturn   ReferenceFileType = "check_return"
	FileWriteback     ReferenceFileType = "writeback"
)

// ReferenceFileStatus tracks emitted files through staging and upload.
type ReferenceFileStatus string

const (
	FileReceived  ReferenceFileStatus = "received"
	FilePending   ReferenceFileStatus = "pending"
	FileUploaded  ReferenceFileStatus = "uploaded"
	FileAbandoned ReferenceFileStatus = "abandoned"
)
