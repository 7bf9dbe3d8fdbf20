package keyfile

import (
	"context"
	"fmt"
	"strings"

	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
)

// AssertPseudonymTemplates verifies the keyfile's pseudonym template against
// the caller's expectations, so a misconfigured keyfile fails at setup time
// instead of producing malformed pseudonyms (a GUID where a DICOM UID is
// expected) deep into a batch job.
//
// shouldHaveTemplate lists value types that must have some template defined;
// shouldExist lists templates that must be present verbatim. The first unmet
// requirement fails with the full server template in the message for
// diagnosis.
func (k *KeyFile) AssertPseudonymTemplates(ctx context.Context, shouldHaveTemplate []domain.ValueType, shouldExist []domain.PseudonymTemplate) error {
	template, err := k.PseudonymTemplate(ctx)
	if err != nil {
		return err
	}

	for _, valueType := range shouldHaveTemplate {
		if !strings.Contains(template, fmt.Sprintf(":%s", valueType)) {
			return dErrors.Newf(dErrors.CodeInvalidTemplate,
				"no template defined for %q in keyfile %d template %q; this is required",
				valueType, k.id, template)
		}
	}
	for _, required := range shouldExist {
		if !strings.Contains(template, required.AsServerString()) {
			return dErrors.Newf(dErrors.CodeInvalidTemplate,
				"template %q not found in keyfile %d template %q; this is required",
				required.AsServerString(), k.id, template)
		}
	}
	return nil
}
