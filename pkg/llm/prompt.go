package llm

import (
	"fmt"

	"github.com/xhad/claimcheck/internal/models"
)

const claimInstructions = `
You are a legal document assistant.
1. First, classify the document type. Return options like: "NF-10 doc", "Invoice", "Purchase Order", or "Invalid Document".
2. Extract the following fields if available:

### Basic Case Information
- Policyholder
- Policy Number
- Date of Accident
- Injured Person
- Claim Number
- Applicant Name and Address
- As Assignee (Yes/No)
- Denial Reason
- Provider Name
- Service Date
- Bill Amount

### Health Service Info
- Provider of Health Service
- Type of Service Rendered
- Period of bill
- Date of bill
- Date bill received
- Final verification requested
- Final verification received
- Amount of bill
- Amount paid by insurer
- Amount in dispute
- Reason for denial

### Loss of Earnings Section
- Date claim made
- Gross earnings per month
- Period of dispute
- Amount claimed

### Health Services Dispute Table
[List of dicts with: Provider, Date of Service, Amount of Bill, Amount in Dispute, Date Claim Mailed]

### Other Necessary Expenses
[List of dicts with: Type of Expense, Amount, Date Incurred, Date Claim Mailed, Amount in Dispute]

### Request Info
- Last Name
- First Name
- Law Firm
- Telephone
- Fax
- Email
- Address
- Attorney? (Yes/No)
- Date
- Signature (text or "to be added")

3. Also provide a brief summary of this document (50-75 words).
4. If the upload is not a claim document, classify it as "Invalid Document".

Respond strictly in the following JSON structure:

{
  "document_type": "...",
  "summary": "...",
  "Invalid": "...",
  "fields": {
    "basic_info": { ... },
    "health_service_info": { ... },
    "loss_of_earnings": { ... },
    "health_services_disputes": [...],
    "other_expenses": [...],
    "arbitration_info": { ... }
  }
}

Here is the document text:
"""`

const billingInstructions = `
You are a legal document assistant.
1. Classify the document type. Possible values: "AR1", "NF3", or "Invalid Document".
2. Extract fields as structured JSON for comparison.

AR1 format includes:
- Claim Number
- Total Billed Amount
- Line Items: [{"Date of Service": "...", "Procedure Code": "...", "Amount": ...}]

NF3 format includes:
- Claim Number
- CPT Codes: [{"Date of Service": "...", "Procedure Code": "...", "Amount": ...}]

Respond in JSON:
{
  "document_type": "...",
  "summary": "...",
  "fields": {
    "claim_number": "...",
    "total_billed": "...",
    "line_items": [{"Date of Service": "...", "Procedure Code": "...", "Amount": ...}]
  }
}

Document:
"""`

// BuildPrompt wraps document text in the extraction instructions for kind.
func BuildPrompt(kind models.DocumentKind, text string) (string, error) {
	var instructions string
	switch kind {
	case models.KindClaim:
		instructions = claimInstructions
	case models.KindBilling:
		instructions = billingInstructions
	default:
		return "", fmt.Errorf("unknown document kind: %q", kind)
	}
	return instructions + text + "\"\"\"\n", nil
}
