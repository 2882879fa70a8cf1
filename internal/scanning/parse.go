package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// field accepts a JSON string, number or bool and keeps its text. Models
// are inconsistent about quoting amounts.
type field string

func (f *field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = field(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = field(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = field(strconv.FormatBool(b))
		return nil
	}
	return fmt.Errorf("unsupported value %s", data)
}

type rawLineItem struct {
	Description field `json:"description"`
	Name        field `json:"name"`
	Quantity    field `json:"quantity"`
	UnitPrice   field `json:"unit_price"`
	ItemTotal   field `json:"item_total"`
}

type rawInvoice struct {
	SupplierName    field         `json:"supplier_name"`
	SupplierAddress field         `json:"supplier_address"`
	SupplierPhone   field         `json:"supplier_phone"`
	InvoiceDate     field         `json:"invoice_date"`
	InvoiceNumber   field         `json:"invoice_number"`
	TotalAmount     field         `json:"total_amount"`
	Subtotal        field         `json:"subtotal"`
	TaxAmount       field         `json:"tax_amount"`
	PaymentMethod   field         `json:"payment_method"`
	Category        field         `json:"category"`
	LineItems       []rawLineItem `json:"line_items"`
	RawText         field         `json:"rawText"`
}

// parseInvoiceJSON extracts invoice data from a model or workflow response.
// The payload may be wrapped in a markdown code block, in an {"output": ...}
// envelope, or in an array of such envelopes.
func parseInvoiceJSON(text string) (*InvoiceData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndexAny(text, "}]")
	if end == -1 || end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[start : end+1]

	payload, err := unwrapOutput([]byte(text))
	if err != nil {
		return nil, err
	}

	var raw rawInvoice
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return raw.normalize(), nil
}

func unwrapOutput(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte("[")) {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("empty response array")
		}
		data = list[0]
	}

	var envelope struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if len(envelope.Output) > 0 && !bytes.Equal(envelope.Output, []byte("null")) {
		return envelope.Output, nil
	}
	return data, nil
}

func orNA(f field) string {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return NotAvailable
	}
	return s
}

func (r rawInvoice) normalize() *InvoiceData {
	d := &InvoiceData{
		SupplierName:    orNA(r.SupplierName),
		SupplierAddress: orNA(r.SupplierAddress),
		SupplierPhone:   orNA(r.SupplierPhone),
		InvoiceDate:     orNA(r.InvoiceDate),
		InvoiceNumber:   orNA(r.InvoiceNumber),
		TotalAmount:     orNA(r.TotalAmount),
		Subtotal:        orNA(r.Subtotal),
		TaxAmount:       orNA(r.TaxAmount),
		PaymentMethod:   orNA(r.PaymentMethod),
		Category:        strings.TrimSpace(string(r.Category)),
		LineItems:       make([]LineItem, 0, len(r.LineItems)),
		RawText:         string(r.RawText),
	}
	if d.Category == "" {
		d.Category = "Other"
	}

	for _, item := range r.LineItems {
		name := strings.TrimSpace(string(item.Description))
		if name == "" {
			name = strings.TrimSpace(string(item.Name))
		}
		if name == "" {
			name = UnknownItem
		}
		d.LineItems = append(d.LineItems, LineItem{
			Description: name,
			Quantity:    orNA(item.Quantity),
			UnitPrice:   orNA(item.UnitPrice),
			ItemTotal:   orNA(item.ItemTotal),
		})
	}
	return d
}
