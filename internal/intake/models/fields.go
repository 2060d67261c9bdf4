package models

// FieldName names one encrypted field of a sensitive record.
type FieldName string

const (
	FieldStudentFirstName      FieldName = "student_first_name"
	FieldStudentLastName       FieldName = "student_last_name"
	FieldStudentFullName       FieldName = "student_full_name"
	FieldStudentID             FieldName = "student_id"
	FieldDateOfBirth           FieldName = "date_of_birth"
	FieldParentName            FieldName = "parent_name"
	FieldParentEmail           FieldName = "parent_email"
	FieldParentPhone           FieldName = "parent_phone"
	FieldInsuranceCompany      FieldName = "insurance_company"
	FieldPolicyholderName      FieldName = "policyholder_name"
	FieldRelationshipToStudent FieldName = "relationship_to_student"
	FieldMemberID              FieldName = "member_id"
	FieldGroupNumber           FieldName = "group_number"
	FieldInsuranceCardFront    FieldName = "insurance_card_front"
	FieldInsuranceCardBack     FieldName = "insurance_card_back"
	FieldServiceCategory       FieldName = "service_category"
	FieldServiceCategoryOther  FieldName = "service_category_other"
	FieldSeverityOfConcern     FieldName = "severity_of_concern"
	FieldTypeOfServiceNeeded   FieldName = "type_of_service_needed"
	FieldFamilyResources       FieldName = "family_resources"
	FieldReferralConcern       FieldName = "referral_concern"
	FieldSexAtBirth            FieldName = "sex_at_birth"
	FieldRace                  FieldName = "race"
	FieldRaceOther             FieldName = "race_other"
	FieldEthnicity             FieldName = "ethnicity"
	FieldProcessingNotes       FieldName = "processing_notes"
)

// DocumentFields hold object keys rather than form values.
var DocumentFields = []FieldName{FieldInsuranceCardFront, FieldInsuranceCardBack}
