// Package domain holds identifier types shared across features.
//
// Aggregate ids are store-assigned monotonic sequences, so they are
// plain integers rather than UUIDs; UUIDs are reserved for
// infrastructure records (events, verification requests) where global
// uniqueness without coordination matters.
package domain

import "strconv"

// Principal is the verified caller identity supplied by the
// authentication layer. The core treats it as an opaque address.
type Principal string

func (p Principal) IsZero() bool   { return p == "" }
func (p Principal) String() string { return string(p) }

// TokenID identifies a batch asset. Strictly increasing, assigned at mint.
type TokenID uint64

func (id TokenID) String() string { return strconv.FormatUint(uint64(id), 10) }

// TransferID identifies a transfer record.
type TransferID uint64

func (id TransferID) String() string { return strconv.FormatUint(uint64(id), 10) }

// InvestigationID identifies an investigation case.
type InvestigationID uint64

func (id InvestigationID) String() string { return strconv.FormatUint(uint64(id), 10) }

// AlertID identifies an alert.
type AlertID uint64

func (id AlertID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ReportID identifies an audit report.
type ReportID uint64

func (id ReportID) String() string { return strconv.FormatUint(uint64(id), 10) }
