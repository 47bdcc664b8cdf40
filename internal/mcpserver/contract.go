package mcpserver

// IdentifyContract describes how identify_contact consolidates contacts,
// for LLM consumers deciding when to call it.
const IdentifyContract = `# contactlink Identify Contract

A contact is a record holding an email, a phone number, or both. Contacts that
share an email or a phone number, directly or through other contacts, form
one cluster and describe one customer.

## Matching

- Empty strings count as "not supplied". At least one of email and
  phoneNumber is required.
- Matching is exact. No normalization, case folding or fuzzy matching.

## Outcomes

- No match: a new primary contact is created.
- Match in one cluster: if the request brings an email or phone the cluster
  does not know yet, or a new (email, phoneNumber) pair, a secondary contact
  is added. Repeating a known pair changes nothing.
- Match in several clusters: the clusters are merged. The oldest primary
  (earliest creation, then lowest id) stays primary; the others and all their
  secondaries link to it.

## Response

` + "```" + `json
{
  "primaryContactId": 1,
  "emails": ["primary@example.com", "other@example.com"],
  "phoneNumbers": ["123456"],
  "secondaryContactIds": [23]
}
` + "```" + `

The primary's own email and phone number come first; the rest follow in
creation order without duplicates. Lists are always present, possibly empty.

## Reading

get_contact_cluster(contactId) returns the same view for any contact id in a
cluster without modifying anything.
`
