package scanning

import (
	"strings"

	"github.com/zombor/expense-tracker/internal/category"
)

// invoicePrompt is shared by the LLM providers.
var invoicePrompt = `You are reading a receipt or invoice. Extract the following fields:

- supplier_name, supplier_address, supplier_phone: the merchant, usually printed at the top.
- invoice_date: the transaction date as printed.
- invoice_number: the receipt or invoice number.
- total_amount, subtotal, tax_amount: amounts exactly as printed, without currency symbols.
- payment_method: cash, card type or similar.
- category: one of ` + categoryList() + `.
- line_items: every purchased line with description, quantity, unit_price and item_total.
- rawText: all text you can read on the receipt.

Return ONLY valid JSON in this exact format:
{
  "supplier_name": "",
  "supplier_address": "",
  "supplier_phone": "",
  "invoice_date": "",
  "invoice_number": "",
  "total_amount": "",
  "subtotal": "",
  "tax_amount": "",
  "payment_method": "",
  "category": "",
  "line_items": [{"description": "", "quantity": "", "unit_price": "", "item_total": ""}],
  "rawText": ""
}

Important:
- Use an empty string for any field you cannot find
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

func categoryList() string {
	names := make([]string, 0, len(category.All()))
	for _, c := range category.All() {
		names = append(names, `"`+string(c)+`"`)
	}
	return strings.Join(names, ", ")
}
